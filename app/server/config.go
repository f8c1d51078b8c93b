package server

import "path/filepath"

// Config holds the startup parameters reported by CONFIG GET. It is built
// once and never modified, so it is shared freely between connections.
type Config struct {
	dir        string
	dbfilename string
}

func NewConfig(dir, dbfilename string) *Config {
	return &Config{
		dir:        dir,
		dbfilename: dbfilename,
	}
}

// Get returns the value of a named parameter.
func (c *Config) Get(name string) (string, bool) {
	switch name {
	case "dir":
		return c.dir, true
	case "dbfilename":
		return c.dbfilename, true
	default:
		return "", false
	}
}

func (c *Config) Dir() string {
	return c.dir
}

func (c *Config) DBFilename() string {
	return c.dbfilename
}

// SnapshotPath is the location of the database file described by dir and dbfilename.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.dir, c.dbfilename)
}
