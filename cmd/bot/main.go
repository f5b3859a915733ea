package main

import (
	"os"

	"go_relay/internal/logger"
)

func main() {
	logger.Init()

	if err := rootCmd.Execute(); err != nil {
		logger.L().Errorf("命令执行失败: %v", err)
		os.Exit(1)
	}
}
