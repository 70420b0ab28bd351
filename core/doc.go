// Package core defines the domain records, contracts, configuration, and
// error envelope shared by the gateway's admission, dispatch, and delivery
// packages. Records here are transport-agnostic; persistence lives in
// store/sql and the HTTP surface lives in admission.
package core
