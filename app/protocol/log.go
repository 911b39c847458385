package protocol

import (
	"github.com/selfnet/selfd/infrastructure/logger"
	"github.com/selfnet/selfd/util/panics"
)

var log = logger.RegisterSubSystem("PROT")
var spawn = panics.GoroutineWrapperFunc(log)
