package main

import (
	"fmt"
	"os"

	log "github.com/go-pkgz/lgr"
	flags "github.com/umputun/go-flags"

	"github.com/vdimir/elasticrecord/app/cmd"
)

// Opts with all cli commands and flags
type Opts struct {
	DeployCmd  cmd.DeployCommand  `command:"deploy" description:"create physical index and point alias to it"`
	MappingCmd cmd.MappingCommand `command:"mapping" description:"get, update or delete mapping"`
	ExportCmd  cmd.ExportCommand  `command:"export" description:"export documents as ndjson"`
	ImportCmd  cmd.ImportCommand  `command:"import" description:"import documents from ndjson"`
	ReindexCmd cmd.ReindexCommand `command:"reindex" description:"copy documents to fresh index and switch alias"`

	Elastic struct {
		URL        []string `long:"url" env:"URL" env-delim:"," default:"http://localhost:9200" description:"elasticsearch endpoints"`
		Secret     string   `long:"secret" env:"SECRET" description:"credentials, basic:user:pass or token:api-key"`
		JSONParser string   `long:"json" env:"JSON" choice:"std" choice:"jsoniter" default:"std" description:"json parser"`
		MaxRetries int      `long:"retries" env:"RETRIES" default:"3" description:"max retries of a request"`
		Wait       int      `long:"wait" env:"WAIT" default:"5" description:"attempts to reach the cluster on start"`
	} `group:"elastic" namespace:"es" env-namespace:"ES"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Fprintf(os.Stderr, "elasticrecord %s\n", revision)

	var opts Opts
	p := flags.NewParser(&opts, flags.Default)
	p.CommandHandler = func(command flags.Commander, args []string) error {
		setupLog(opts.Dbg)
		// commands implement CommonOptionsCommander to allow passing set of extra options defined for all commands
		c := command.(cmd.CommonOptionsCommander)
		c.SetCommon(cmd.CommonOpts{
			Endpoints:  opts.Elastic.URL,
			Secret:     opts.Elastic.Secret,
			JSONParser: opts.Elastic.JSONParser,
			MaxRetries: opts.Elastic.MaxRetries,
			Wait:       opts.Elastic.Wait,
			Revision:   revision,
		})
		err := c.Execute(args)
		if err != nil {
			log.Printf("[ERROR] failed with %+v", err)
		}
		return err
	}

	if _, err := p.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func setupLog(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.CallerFile, log.CallerFunc, log.Msec, log.LevelBraces)
		return
	}
	log.Setup(log.Msec, log.LevelBraces)
}
