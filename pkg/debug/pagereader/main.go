// Command pagereader inspects the data and log page files of a litepage
// database: hex dumps, integrity checks, sizes and an interactive browser.
package main

import (
	"context"
	"fmt"
	"os"

	"litepage/pkg/disk"
	"litepage/pkg/logging"
	"litepage/pkg/primitives"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
)

// Globals are flags shared by every command.
type Globals struct {
	Password string `help:"Password of an encrypted database" env:"LITEPAGE_PASSWORD"`
	PageSize int    `name:"page-size" default:"8192" help:"Page size in bytes"`
	LogLevel string `name:"log-level" default:"warn" enum:"debug,info,warn,error" help:"Log verbosity"`
}

func (g *Globals) open(path string) (*disk.Service, error) {
	if err := logging.Init(logging.Config{Level: logging.LogLevel(g.LogLevel)}); err != nil {
		return nil, err
	}
	return openFiles(path, g.Password, g.PageSize)
}

func fileMode(log bool) primitives.FileMode {
	if log {
		return primitives.Log
	}
	return primitives.Data
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Dump   DumpCmd   `cmd:"" help:"Hex dump one page"`
	Verify VerifyCmd `cmd:"" help:"Read every page and report unreadable ones"`
	Stats  StatsCmd  `cmd:"" help:"Show file sizes and page counts"`
	Browse BrowseCmd `cmd:"" help:"Browse pages interactively"`
}

// DumpCmd prints one page.
type DumpCmd struct {
	Path  string `arg:"" help:"Data file" type:"existingfile"`
	Index int64  `arg:"" help:"Page index"`
	Log   bool   `help:"Read the log file instead of the data file"`
	Full  bool   `help:"Do not fold repeated rows"`
}

func (c *DumpCmd) Run(g *Globals) error {
	svc, err := g.open(c.Path)
	if err != nil {
		return err
	}
	defer svc.Close()

	return dump(context.Background(), os.Stdout, svc, fileMode(c.Log), primitives.PageIndex(c.Index), c.Full)
}

// VerifyCmd reads every page of both files.
type VerifyCmd struct {
	Path    string `arg:"" help:"Data file" type:"existingfile"`
	Verbose bool   `short:"v" help:"List every page, not only failures"`
}

func (c *VerifyCmd) Run(g *Globals) error {
	svc, err := g.open(c.Path)
	if err != nil {
		return err
	}
	defer svc.Close()

	failed, total := 0, 0
	for _, mode := range []primitives.FileMode{primitives.Data, primitives.Log} {
		reports, err := verify(context.Background(), svc, mode)
		if err != nil {
			return err
		}
		failed += writeVerify(os.Stdout, reports, c.Verbose)
		total += len(reports)
	}

	fmt.Printf("%d pages checked, %d unreadable\n", total, failed)
	if failed > 0 {
		return fmt.Errorf("%d unreadable pages", failed)
	}
	return nil
}

// StatsCmd prints file sizes.
type StatsCmd struct {
	Path string `arg:"" help:"Data file" type:"existingfile"`
}

func (c *StatsCmd) Run(g *Globals) error {
	svc, err := g.open(c.Path)
	if err != nil {
		return err
	}
	defer svc.Close()

	return writeStats(os.Stdout, svc)
}

// BrowseCmd starts the interactive viewer.
type BrowseCmd struct {
	Path string `arg:"" help:"Data file" type:"existingfile"`
}

func (c *BrowseCmd) Run(g *Globals) error {
	svc, err := g.open(c.Path)
	if err != nil {
		return err
	}
	defer svc.Close()

	p := tea.NewProgram(initialBrowseModel(svc), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("pagereader"),
		kong.Description("Inspect litepage data and log files"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Bind(&cli.Globals),
	)
	err := ctx.Run()
	logging.Close()
	ctx.FatalIfErrorf(err)
}
