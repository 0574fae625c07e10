// Package clickhouse provides a Go client for the ClickHouse HTTP interface.
//
// The client sends SQL to a ClickHouse server over HTTP, parses FORMAT JSON
// results, runs batches of queries with a bounded number of requests in
// flight, uploads local files as external tables and bulk-loads files into
// tables.
//
// # Getting Started
//
// Create a client and run a select:
//
//	client, err := clickhouse.Open("clickhouse://default@localhost:8123/default")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	st, err := client.Select(ctx, "SELECT * FROM {table} WHERE event_date IN (:dates)",
//	    clickhouse.Bindings{
//	        "table": clickhouse.Raw("summing_url_views"),
//	        "dates": clickhouse.Strings("2000-10-10", "2000-10-11"),
//	    })
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, row := range st.Rows() {
//	    fmt.Println(row.Get("site_id"), row.Get("views"))
//	}
//
// # Templates
//
// Query templates support conditional blocks, raw substitution and value
// binding:
//
//	SELECT * FROM {table} WHERE 1 {if site}AND site_id = :site{/if}
//
// {name} is pasted verbatim and is meant for identifiers. :name is quoted and
// escaped; a sequence renders as a parenthesized comma separated list, so
// IN :ids and IN (:ids) both produce IN (1,2,3).
//
// # Async Queries
//
// SelectAsync queues a query without sending it. ExecuteAsync sends every
// queued query with at most Config.MaxConcurrency requests in flight:
//
//	p1, _ := client.SelectAsync("SELECT count() FROM a", nil)
//	p2, _ := client.SelectAsync("SELECT count() FROM b", nil)
//	if err := client.ExecuteAsync(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	st1, err := p1.Statement()
//
// # External Tables
//
// A local file can be sent with a query and used inside it as a table:
//
//	ext := clickhouse.NewExternalData()
//	_ = ext.AttachFile("ids.csv", "ids", clickhouse.Structure{{"site_id", "Int32"}}, clickhouse.CSV)
//	st, err := client.Select(ctx, "SELECT * FROM t WHERE site_id IN (SELECT site_id FROM ids)", nil,
//	    clickhouse.WithExternalData(ext))
//
// # Errors
//
// Failures are reported as one of *TransportError (no HTTP response),
// *DatabaseError (the server rejected the request), *QueryError (the request
// could not be built) or *BatchInsertError (some files of InsertBatchFiles
// failed). Use errors.As to tell them apart.
package clickhouse
