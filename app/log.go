package app

import (
	"github.com/selfnet/selfd/infrastructure/logger"
	"github.com/selfnet/selfd/util/panics"
)

var log = logger.RegisterSubSystem("SELF")
var spawn = panics.GoroutineWrapperFunc(log)
