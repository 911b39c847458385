package tcpserver

import (
	"github.com/selfnet/selfd/infrastructure/logger"
	"github.com/selfnet/selfd/util/panics"
)

var log = logger.RegisterSubSystem("TCPS")
var spawn = panics.GoroutineWrapperFunc(log)
