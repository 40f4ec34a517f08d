package common

import (
	"fmt"
	"io"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner writes the startup banner for CLI commands to w.
func PrintBanner(w io.Writer, config *Config, logger *Logger) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 60
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	fmt.Fprintf(w, "\n%s\n", hr)
	fmt.Fprintf(w, "%s  STOCKCACHE  %s%s\n", textColor, "snapshot cache & freshness", banner.ColorReset)
	fmt.Fprintf(w, "%s\n", hr)

	info := GetBuildInfo()
	kvPad := 14
	kvLines := [][2]string{
		{"Version", info.Version},
		{"Build", info.Build},
		{"Commit", info.GitCommit},
		{"Environment", config.Environment},
		{"Exchange", fmt.Sprintf("%s (%s)", config.Exchange.Name, config.Exchange.Timezone)},
		{"Data", config.Storage.Path},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(w, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}
	fmt.Fprintf(w, "%s\n\n", hr)

	logger.Debug().
		Str("version", info.Version).
		Str("commit", info.GitCommit).
		Str("environment", config.Environment).
		Str("exchange", config.Exchange.Name).
		Str("data_path", config.Storage.Path).
		Msg("stockcache started")
}
