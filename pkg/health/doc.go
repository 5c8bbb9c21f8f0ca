/*
Package health implements the pre-start fitness-check hook run once before a
worker accepts its first job.

A fitness check is anything implementing Checker: HTTPChecker probes a URL and
accepts a configurable status range, TCPChecker dials an address, and
ExecChecker runs a local command and inspects its exit code. All three share
the same Result{Healthy, Message, CheckedAt, Duration} shape and respect
context deadlines.

The worker runs each configured Checker exactly once during start-up and
treats the first Result as final; a failing check aborts start-up before any
job is fetched.

	checker := health.NewHTTPChecker("http://localhost:8080/ready").WithTimeout(5 * time.Second)
	result := checker.Check(ctx)
	if !result.Healthy {
		log.Fatal("fitness check failed: " + result.Message)
	}
*/
package health
