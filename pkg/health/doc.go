/*
Package health probes the reachability of the console API and of the
hosts behind it.

Two checkers implement the Checker interface:

	┌──────────────────────────────────────────────────────────┐
	│                    Checker Interface                     │
	│  • Check(ctx) Result                                     │
	│  • Type() CheckType                                      │
	└───────┬──────────────────────────────────┬───────────────┘
	        ▼                                  ▼
	┌──────────────┐                    ┌──────────────┐
	│ HTTPChecker  │  GET /health       │  TCPChecker  │  dial host:port
	└──────────────┘                    └──────────────┘

HTTPChecker is what `conduit status` runs against the API; TCPChecker backs
the dev server's connection test for engines without a native driver.

# Status and Monitor

Status applies the usual consecutive-failure rule: a target becomes
unhealthy after Config.Retries failures in a row and healthy again on the
first success. Failures inside Config.StartPeriod are recorded but not
counted.

Monitor runs one checker on an interval:

	m := health.NewMonitor("api", health.NewHTTPChecker(url), health.Config{
		Interval: 5 * time.Second,
		Retries:  3,
	})
	go m.Run(ctx, func(s health.Status) {
		fmt.Println(s.Healthy, s.LastResult.Message)
	})

Health transitions are logged through the "health" component logger.
*/
package health
