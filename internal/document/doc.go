// Package document provides per-session, append-only artifact version storage.
//
// Each session tracks two document kinds (functional spec, test plan) as
// immutable version histories. Version ids are strictly increasing from 1;
// a test plan cannot gain its first version before the functional spec has one.
package document
