package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New - 실행 환경에 맞는 zerolog.Logger 생성
// development 에서는 콘솔 출력 + debug 레벨
func New(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	log := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return log
}

// Nop - 테스트용 무출력 로거
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
