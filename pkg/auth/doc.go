// Package auth resolves the acting principal for a business operation and
// scopes the operation inside a single datastore transaction.
//
// Every operation in the business-logic layer, authenticated or not, runs
// through Transactor.Run: credentials are matched against the stored
// bcrypt password hash inside the freshly opened transaction, and the
// resulting Principal (nil for anonymous callers) is handed to the
// operation callback together with the transaction handle. Any error from
// authentication or from the callback rolls the whole transaction back.
package auth
