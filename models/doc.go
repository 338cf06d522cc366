// Package models defines the shared domain types for the doni hardware
// registry: hardware items, the worker tasks that synchronize them into
// external services, availability windows, and API tokens.
//
// These types are used by the API layer, the service layer, and the worker
// process, so they carry no dependencies beyond the standard library.
package models
