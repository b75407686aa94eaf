package response

import "errors"

// ErrAlreadyWritten is returned when a Writer is asked to write a second response.
var ErrAlreadyWritten = errors.New("response already written")
