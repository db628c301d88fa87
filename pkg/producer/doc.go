// Package producer implements a Logmet Lumberjack producer.
//
// A Producer keeps one TLS session to the service, buffers records while the
// session is down and keeps a bounded window of records in flight. Records
// are acknowledged cumulatively; anything unacknowledged when a connection
// drops is resent under fresh sequence numbers once the next handshake
// completes.
//
//	p, err := producer.New(producer.Config{
//		Endpoint: "logs.example.net",
//		Port:     9091,
//		TenantID: tenant,
//		Token:    token,
//	})
//	if err := p.Connect(ctx); err != nil {
//		return err
//	}
//	_, err = p.Send(producer.Record{"message": "hello"}, "syslog", tenant)
//	p.Terminate()
//	<-p.Done()
package producer
