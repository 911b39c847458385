package metrics

import (
	"github.com/selfnet/selfd/infrastructure/logger"
	"github.com/selfnet/selfd/util/panics"
)

var log = logger.RegisterSubSystem("METR")
var spawn = panics.GoroutineWrapperFunc(log)
