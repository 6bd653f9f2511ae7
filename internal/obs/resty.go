package obs

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// RestyLogger routes resty's internal messages into zerolog.
type RestyLogger struct {
	Logger zerolog.Logger
}

func (l RestyLogger) Errorf(format string, v ...any) {
	l.Logger.Error().Msg(restyMsg(format, v))
}

func (l RestyLogger) Warnf(format string, v ...any) {
	l.Logger.Warn().Msg(restyMsg(format, v))
}

func (l RestyLogger) Debugf(format string, v ...any) {
	l.Logger.Debug().Msg(restyMsg(format, v))
}

func restyMsg(format string, v []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, v...))
}
