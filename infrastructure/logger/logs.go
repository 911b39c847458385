package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// BackendLog is the backend every subsystem logger writes to.
	BackendLog = NewBackend()

	subsystemLoggers     = make(map[string]*Logger)
	subsystemLoggersLock sync.Mutex
)

type stdoutWriter struct{}

func (stdoutWriter) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdoutWriter) Close() error                { return nil }

// RegisterSubSystem returns the logger of subsystem, creating it on first use.
func RegisterSubSystem(subsystem string) *Logger {
	subsystemLoggersLock.Lock()
	defer subsystemLoggersLock.Unlock()

	logger, ok := subsystemLoggers[subsystem]
	if !ok {
		logger = BackendLog.Logger(subsystem)
		subsystemLoggers[subsystem] = logger
	}
	return logger
}

// InitLog attaches the log files and stdout to BackendLog and starts it.
// errLogFile receives warnings and above only.
func InitLog(logFile, errLogFile string) error {
	err := BackendLog.AddLogFile(logFile, LevelTrace)
	if err != nil {
		return err
	}
	err = BackendLog.AddLogFile(errLogFile, LevelWarn)
	if err != nil {
		return err
	}
	err = BackendLog.AddLogWriter(stdoutWriter{}, LevelTrace)
	if err != nil {
		return err
	}
	return BackendLog.Run()
}

// SupportedSubsystems returns the sorted tags of all registered subsystems.
func SupportedSubsystems() []string {
	subsystemLoggersLock.Lock()
	defer subsystemLoggersLock.Unlock()

	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsystem := range subsystemLoggers {
		subsystems = append(subsystems, subsystem)
	}
	sort.Strings(subsystems)
	return subsystems
}

// SetLogLevel sets the level of a single subsystem.
func SetLogLevel(subsystem string, level Level) error {
	subsystemLoggersLock.Lock()
	defer subsystemLoggersLock.Unlock()

	logger, ok := subsystemLoggers[subsystem]
	if !ok {
		return errors.Errorf("unknown subsystem %s", subsystem)
	}
	logger.SetLevel(level)
	return nil
}

// SetLogLevels sets every registered subsystem to level.
func SetLogLevels(level Level) {
	subsystemLoggersLock.Lock()
	defer subsystemLoggersLock.Unlock()

	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}

// ParseAndSetLogLevels parses a debuglevel string: either a single level
// applied to all subsystems, or comma separated SUBSYSTEM=level pairs.
func ParseAndSetLogLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, "=") && !strings.Contains(debugLevel, ",") {
		level, ok := LevelFromString(debugLevel)
		if !ok {
			return errors.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLogLevels(level)
		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		fields := strings.Split(pair, "=")
		if len(fields) != 2 {
			return errors.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", pair)
		}
		level, ok := LevelFromString(fields[1])
		if !ok {
			return errors.Errorf("the specified debug level [%s] is invalid", fields[1])
		}
		err := SetLogLevel(fields[0], level)
		if err != nil {
			return errors.Wrapf(err, "%s; supported subsystems: %s", pair,
				strings.Join(SupportedSubsystems(), ", "))
		}
	}
	return nil
}

// Printf is used by third-party adapters expecting a printf-style sink.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.Infof(format, args...)
}

func (l *Logger) String() string {
	return fmt.Sprintf("logger(%s)", l.tag)
}

// LogAndMeasureExecutionTime traces the start of functionName and returns a
// func that logs how long it took at debug level.
func LogAndMeasureExecutionTime(log *Logger, functionName string) (onEnd func()) {
	start := time.Now()
	log.Tracef("%s start", functionName)
	return func() {
		log.Debugf("%s took %s", functionName, time.Since(start).Round(time.Microsecond))
	}
}
