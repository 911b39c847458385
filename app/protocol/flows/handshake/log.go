package handshake

import (
	"github.com/selfnet/selfd/infrastructure/logger"
	"github.com/selfnet/selfd/util/panics"
)

var log = logger.RegisterSubSystem("HAND")
var spawn = panics.GoroutineWrapperFunc(log)
