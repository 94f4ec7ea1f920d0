// Package usage delivers token-usage records to a queue without ever
// blocking the request that produced them.
//
// Delivery is best effort and at most once: a record is dropped when the
// buffer is full or the reporter is closed, and a failed send is logged
// and counted but never retried.
package usage
