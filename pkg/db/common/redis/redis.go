package redis

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/rueidis"

	dbTypes "github.com/crsche/trustify/pkg/db/common/types"
	"github.com/crsche/trustify/pkg/db/common/util"
)

// redis: HASH KEY: "metadata" FIELD: "db" VALUE: dbTypes.Metadata

type Connection struct {
	Config *rueidis.ClientOption

	conn rueidis.Client
}

func (c *Connection) Open() error {
	if c.Config == nil {
		return errors.New("connection config is not set")
	}

	client, err := rueidis.NewClient(*c.Config)
	if err != nil {
		return errors.WithStack(err)
	}
	c.conn = client
	return nil
}

func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	c.conn.Close()
	return nil
}

func (c *Connection) Initialize() error {
	return nil
}

func (c *Connection) DeleteAll() error {
	if err := c.conn.Do(context.TODO(), c.conn.B().Flushdb().Build()).Error(); err != nil {
		return errors.Wrap(err, "FLUSHDB")
	}
	return nil
}

func (c *Connection) GetMetadata() (*dbTypes.Metadata, error) {
	bs, err := c.conn.Do(context.TODO(), c.conn.B().Hget().Key("metadata").Field("db").Build()).AsBytes()
	if err != nil {
		return nil, errors.Wrapf(err, "HGET %s %s", "metadata", "db")
	}

	var v dbTypes.Metadata
	if err := util.Unmarshal(bs, false, &v); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s", "metadata -> db")
	}

	return &v, nil
}

func (c *Connection) PutMetadata(metadata dbTypes.Metadata) error {
	bs, err := util.Marshal(metadata, false)
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}

	if err := c.conn.Do(context.TODO(), c.conn.B().Hset().Key("metadata").FieldValue().FieldValue("db", string(bs)).Build()).Error(); err != nil {
		return errors.Wrapf(err, "HSET %s %s %q", "metadata", "db", string(bs))
	}

	return nil
}

// Entity transactions need multi-key read-modify-write atomicity that a
// WATCH/MULTI loop cannot give across the whole merge batch.
func (c *Connection) View(fn func(dbTypes.Tx) error) error {
	return errors.New("not implemented yet")
}

func (c *Connection) Update(fn func(dbTypes.Tx) error) error {
	return errors.New("not implemented yet")
}
