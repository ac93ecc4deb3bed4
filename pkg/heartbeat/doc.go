// Package heartbeat implements the master/slave liveness protocol of
// subalive. A Sender (master side) calls the slave's alive endpoint once per
// period with a counter that wraps at a fixed modulus. A Receiver (slave side)
// records every arrival in a Detector and runs an independent checker that
// shuts the slave down once no heartbeat arrived for a full check period.
//
// Typical usage on the slave:
//
//	r, _ := heartbeat.NewReceiver(heartbeat.ReceiverConfig{Period: 5 * time.Second})
//	srv, _ := transport.NewServer(transport.ServerConfig{Addr: "localhost:8000"}, r, logger)
//	term, err := r.Run(srv)
//
// and on the master:
//
//	s, _ := heartbeat.NewSender(heartbeat.SenderConfig{Transport: client, Period: 5 * time.Second})
//	err := s.Run(ctx)
//
// The transport is pluggable; anything implementing Transport on the sending
// side and Endpoint on the receiving side will do.
package heartbeat
