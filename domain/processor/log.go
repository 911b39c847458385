package processor

import (
	"github.com/selfnet/selfd/infrastructure/logger"
	"github.com/selfnet/selfd/util/panics"
)

var log = logger.RegisterSubSystem("PROC")
var spawn = panics.GoroutineWrapperFunc(log)
