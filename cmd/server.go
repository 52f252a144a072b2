package cmd

import (
	"wavedeck/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动WaveDeck服务器",
	Long:  `启动WaveDeck播放控制服务器，同时提供WebSocket控制端点和HLS文件服务。`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
