package peer

import (
	"github.com/selfnet/selfd/infrastructure/logger"
)

var log = logger.RegisterSubSystem("PEER")
