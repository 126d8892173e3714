// Package pg bootstraps PostgreSQL connectivity for the service: a pgxpool
// connection pool with startup retries, goose migrations, a pool healthcheck,
// and SQLSTATE helpers shared by every store implementation.
//
// # Usage
//
//	cfg := config.MustLoad[pg.Config]()
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//	    return err
//	}
//
// # Error helpers
//
// Store code maps driver errors to domain errors with IsNotFoundError
// (pgx.ErrNoRows), IsDuplicateKeyError (23505), IsForeignKeyViolationError
// (23503) and IsRowLevelSecurityError (42501). The last one indicates a write
// rejected by a row-level-security policy, i.e. the transaction's tenant
// setting did not cover the touched rows.
package pg
