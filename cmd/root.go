package cmd

import (
	"fmt"
	"os"

	"wavedeck/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wavedeck",
	Short: "WaveDeck is a multi-client playback control server.",
	Long:  `WaveDeck 播放控制服务器：为局域网内多个客户端提供独立的HLS音频流，并通过单一授权协议仲裁共享的服务端播放输出。`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
