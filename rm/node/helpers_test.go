package node

import "github.com/pkg/errors"

func isCause(err, target error) bool {
	return errors.Cause(err) == target
}
