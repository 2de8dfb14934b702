package sqlite

func (s *Cache) RunMigrations() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		url VARCHAR NOT NULL PRIMARY KEY,
		body BLOB NOT NULL,
		fetched_at INTEGER NOT NULL,
		etag VARCHAR NOT NULL DEFAULT "",
		last_modified VARCHAR NOT NULL DEFAULT ""
	)`,
}
