// Package harness runs data-driven scenarios against a real lofi engine.
//
// A scenario declares a schema (inline, or as a CUE declarations
// directory), then a list of steps: writes, reads, and live observations.
// The harness executes every step against a fresh on-disk database,
// records a trace of what happened, and checks each step's expectations.
//
// # Scenario Format
//
//	name: users_lifecycle
//	description: "What this scenario validates"
//	schema:
//	  version: 1
//	  tables:
//	    - name: users
//	      columns:
//	        - {name: name, type: string}
//	        - {name: created_at, type: number}
//	steps:
//	  - op: observe
//	    as: everyone
//	    table: users
//	    exclude_deleted: true
//	  - op: create
//	    table: users
//	    as: ann
//	    values: {name: Ann}
//	    expect: {status: created, changed: []}
//	  - op: update
//	    ref: ann
//	    values: {name: Anne}
//	  - op: transaction
//	    abort: true
//	    steps:
//	      - op: mark_deleted
//	        ref: ann
//	  - op: find
//	    ref: ann
//	    expect: {values: {name: Anne}}
//
// # Operations
//
//   - create, update, mark_deleted, destroy, purge: writes. Outside a
//     transaction step each runs in its own write transaction.
//   - transaction: runs nested write and read steps in one write
//     transaction; abort: true rolls it back.
//   - find, fetch, count: reads against committed state (or the open
//     transaction when nested).
//   - observe: starts a live query named by as:; count: true observes the
//     row count instead of the rows. unobserve releases it.
//
// # Deterministic Testing
//
// Record ids come from testutil.SequentialIDs and timestamps from a
// testutil.StepClock advancing one millisecond per write, so traces are
// byte-identical across runs. After every top-level step the harness
// settles all observations, which records every emission caused by that
// step before the next step starts.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/users.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
