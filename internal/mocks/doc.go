// Package mocks provides shared test doubles for the store, provider and
// auth interfaces.
//
// The store mocks keep their data in memory and behave like the SQL
// stores, including revision checks and sentinel errors, so engine tests
// can run whole sync passes without a database. Each mock also exposes Fn
// fields that replace a single method when a test needs to inject a
// failure:
//
//	tasks := mocks.NewMockTaskStore()
//	tasks.UpdateFn = func(ctx context.Context, task *domain.Task, rev int64) error {
//	    return store.ErrRevisionConflict
//	}
package mocks
