package logger

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Init 初始化全局 logger，输出到 stdout
// 先于配置加载调用，级别暂取 info，配置加载后由 SetLevel 调整
func Init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// SetLevel 按配置调整日志级别
// 无法解析的级别保持现状并告警，不中断启动
func SetLevel(level string) {
	if level == "" {
		return
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %q, keeping current level", level)
		return
	}
	log.SetLevel(lvl)
}

// L 返回全局 logger
func L() *log.Logger { return log.StandardLogger() }
