package service

import "time"

// timeNow is swapped out by tests that need to sit on a code-window or
// lockout boundary.
var timeNow = time.Now
