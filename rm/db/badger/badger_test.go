package badger

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/db/dbtest"
)

func TestBadgerGateway(t *testing.T) {
	paths := map[db.Gateway]string{}
	dbtest.Run(t, dbtest.Factory{
		Open: func(t *testing.T) db.Gateway {
			dir, err := ioutil.TempDir("", "rm-badger")
			require.NoError(t, err)
			t.Cleanup(func() { os.RemoveAll(dir) })
			g, err := Open(dir)
			require.NoError(t, err)
			paths[g] = dir
			return g
		},
		Reopen: func(t *testing.T, old db.Gateway) db.Gateway {
			require.NoError(t, old.Close())
			g, err := Open(paths[old])
			require.NoError(t, err)
			return g
		},
	})
}
