package etcdcoord

import "github.com/coltreedb/repltree/pkg/verrors"

var errAlreadyExists = verrors.ErrAlreadyExists
