package cmd

import (
	"soundscape/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 Soundscape 服务器",
	Long:  `启动 HTTP 服务器，提供账号、混音保存、离线渲染、实时混音会话和监听流接口`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
