package log

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevels(t *testing.T) {
	assert.Nil(t, SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, GetLevel())
	assert.NotEmpty(t, capture(Debug, "debug msg", "key", "value"))
	assert.NotEmpty(t, capture(Info, "info msg", "key", "value"))

	assert.Nil(t, SetLevel("warn"))
	assert.Equal(t, zapcore.WarnLevel, GetLevel())
	assert.Empty(t, capture(Debug, "debug msg", "key", "value"))
	assert.Empty(t, capture(Info, "info msg", "key", "value"))
	assert.NotEmpty(t, capture(Warn, "warn msg", "key", "value"))
	assert.NotEmpty(t, capture(Error, "error msg", "key", "value"))

	assert.NotNil(t, SetLevel("bogus"))

	assert.Nil(t, SetLevel("info"))
}

func capture(logFunc func(string, ...interface{}), msg string, kv ...interface{}) string {
	var buffer bytes.Buffer

	oldLogger := zap.S()
	writer := bufio.NewWriter(&buffer)

	zap.ReplaceGlobals(zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(config()),
		zapcore.AddSync(writer),
		level,
	)))

	logFunc(msg, kv...)
	if err := writer.Flush(); err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(oldLogger.Desugar())

	return buffer.String()
}
