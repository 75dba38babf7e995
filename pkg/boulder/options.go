package boulder

import "github.com/hashicorp/go-hclog"

// options collects the Open-time configuration an Option mutates.
type options struct {
	treeURI    string
	treeConfig string
	log        hclog.Logger
}

type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithTreeURI names the single LSM tree the DB opens, overriding the
// default "lsm:default".
func WithTreeURI(uri string) Option {
	return optionFunc(func(o *options) { o.treeURI = uri })
}

// WithTreeConfig passes a raw lsm_* configuration string straight through
// to the tree's Create call (see internal/lsmconfig).
func WithTreeConfig(config string) Option {
	return optionFunc(func(o *options) { o.treeConfig = config })
}

// WithLogger attaches a logger for the tree's background workers.
func WithLogger(log hclog.Logger) Option {
	return optionFunc(func(o *options) { o.log = log })
}
