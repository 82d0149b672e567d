// cmd/pageharvest/main.go
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/velcourt/pageharvest/internal/config"
	"github.com/velcourt/pageharvest/internal/extract"
	"github.com/velcourt/pageharvest/internal/fetch"
	"github.com/velcourt/pageharvest/internal/job"
	"github.com/velcourt/pageharvest/internal/output"
	"github.com/velcourt/pageharvest/internal/proxy"
	"github.com/velcourt/pageharvest/internal/utils"
	"github.com/velcourt/pageharvest/pkg/types"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		if err := runHarvest(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "pageharvest: %v\n", err)
			os.Exit(1)
		}

	case "validate":
		if err := validateTemplates(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "pageharvest: %v\n", err)
			os.Exit(1)
		}

	case "version", "--version", "-v":
		printVersion()

	case "help", "--help", "-h":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "pageharvest: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// runHarvest performs one job from the command line: fetch, extract and
// paginate until the template's stop condition, then write the results
// through the configured sink.
func runHarvest(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "application configuration file (optional)")
	outPath := fs.String("out", "", "output file, overrides the configured path")
	format := fs.String("format", "", "output format, overrides the configured format")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: pageharvest run [flags] <template.yaml> <url>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("run needs a template file and a target URL")
	}
	templatePath, targetURL := fs.Arg(0), fs.Arg(1)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *format != "" {
		cfg.Output.Format = output.Format(*format)
	}
	if *outPath != "" {
		cfg.Output.Path = *outPath
	}
	if err := cfg.Output.Validate(); err != nil {
		return err
	}

	tmpl, err := config.LoadTemplate(templatePath)
	if err != nil {
		return err
	}

	logger := utils.NewLoggerWithLevel(utils.ParseLevel(cfg.LogLevel))
	pool := proxy.NewPool(&cfg.Proxy)
	dispatcher := &fetch.StealthDispatcher{
		Plain:   fetch.NewHTTPFetcher(),
		Browser: fetch.NewBrowserFetcher(),
	}
	pipeline := fetch.NewPipeline(dispatcher, pool, nil, cfg.Fetch)
	orchestrator := job.NewOrchestrator(pipeline, extract.NewEngine(), cfg.Orchestrator)

	j, err := orchestrator.Submit(targetURL, tmpl)
	if err != nil {
		return err
	}
	if err := orchestrator.Start(j.ID); err != nil {
		return err
	}
	<-j.Done()

	results := j.Results()
	logger.WithFields(map[string]interface{}{
		"job_id": j.ID,
		"status": string(j.Status()),
		"pages":  len(results),
	}).Info("harvest finished")

	if err := writeResults(cfg, results); err != nil {
		return err
	}

	errs := j.Errors()
	for _, msg := range errs {
		fmt.Fprintf(os.Stderr, "page error: %s\n", msg)
	}
	if len(errs) > 0 && len(results) > 0 {
		fmt.Fprintln(os.Stderr, "harvest finished with errors, partial results written")
	}
	if st := j.Status(); st != types.StatusCompleted {
		return fmt.Errorf("job finished %s", st)
	}
	return nil
}

// writeResults routes the harvest through the configured sink, or streams
// JSON to stdout when no output is configured.
func writeResults(cfg *config.AppConfig, results []*types.PageResult) error {
	if cfg.Output.Format == "" {
		writer := output.NewJSONStreamWriter(os.Stdout)
		if err := writer.Write(output.Flatten(results)); err != nil {
			return err
		}
		return writer.Close()
	}
	return output.NewManager(cfg.Output).WriteResults(results)
}

// validateTemplates checks template files without fetching anything
func validateTemplates(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("validate needs at least one template file")
	}
	for _, path := range args {
		if _, err := config.LoadTemplate(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("%s: ok\n", path)
	}
	return nil
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

func printUsage() {
	fmt.Println("pageharvest - template-driven web harvesting")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pageharvest run [flags] <template.yaml> <url>   Harvest a target with a template")
	fmt.Println("  pageharvest validate <template.yaml> [...]      Validate template files")
	fmt.Println("  pageharvest version                             Show version information")
	fmt.Println("  pageharvest help                                Show this help message")
	fmt.Println()
	fmt.Println("Run flags:")
	fmt.Println("  -config <file>   Application configuration (proxies, fetch, output)")
	fmt.Println("  -format <name>   Output format: json, csv, excel, sqlite, postgres, mysql, mongodb")
	fmt.Println("  -out <file>      Output path for file formats")
}

func printVersion() {
	fmt.Printf("pageharvest %s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
	fmt.Printf("Git commit: %s\n", gitCommit)
}
