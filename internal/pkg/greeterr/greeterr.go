// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package greeterr

import "errors"

// ErrThreadSupport is the error returned when the process-group runtime cannot
// guarantee the thread support level that was requested at initialization time
var ErrThreadSupport = errors.New("thread support level not available")

// ErrNotAvailable is the error returned when an element that is being looked up is not available
var ErrNotAvailable = errors.New("item not available")
