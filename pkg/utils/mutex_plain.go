//go:build !mutexdebug

package utils

import "sync"

func NewRWMutex() RWMutex {
	return &sync.RWMutex{}
}
