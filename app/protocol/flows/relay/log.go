package relay

import (
	"github.com/selfnet/selfd/infrastructure/logger"
)

var log = logger.RegisterSubSystem("RELY")
