// Package mongo implements store.Store on the official MongoDB Go driver.
//
// The store owns its client. Open connects, pings, ensures indexes and emits
// StoreOpened; Close disconnects and emits StoreClosed. Retryable reads and
// writes are disabled and a lost connection is never re-established
// silently: a failed server heartbeat forcibly closes the store and emits
// StoreClosed with the cause.
//
//	cfg, _ := jobstore.NewConfig(jobstore.WithURI(uri))
//	s := mongo.New(cfg, mongo.WithExtensions(registry))
//	if err := s.Open(ctx); err != nil {
//	    return err
//	}
//	defer s.Close(ctx, false)
//
// Documents use the domain field names except the job id, which is stored
// as "_id". Encode and Decode translate between the two shapes.
package mongo
