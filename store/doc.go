// Package store defines the aggregate persistence interface. The job
// package owns the job contract; Store adds the connection lifecycle.
// Backends: MongoDB (store/mongo) and Memory (store/memory).
package store
