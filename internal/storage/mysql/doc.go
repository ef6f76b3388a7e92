// Package mysql provides data access backed by MySQL: chat conversations,
// auth users and usage events. It encapsulates connection pooling and the
// embedded schema migrations shared by all stores.
package mysql
