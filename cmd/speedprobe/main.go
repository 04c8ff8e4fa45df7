// speedprobe runs a single measurement without the dashboard and prints
// the result as JSON. It exists for scripting and cron jobs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/gaugelab/speedboard/engine"
	"github.com/gaugelab/speedboard/probe/ndt7"
)

var (
	locateURL = flag.String("locate-url", "", "ndt7 server discovery endpoint")
	serverURL = flag.String("server-url", "", "Pin one ndt7 server and skip discovery")
	timeout   = flag.Duration("timeout", 2*time.Minute, "Give up on the whole run after this long")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	eng := engine.New(&ndt7.Provider{
		LocateURL: *locateURL,
		ServerURL: *serverURL,
	})
	result, err := eng.Run(ctx)
	rtx.Must(err, "Measurement failed")

	raw, err := json.MarshalIndent(result, "", "  ")
	rtx.Must(err, "Could not marshal result")
	fmt.Println(string(raw))
}
