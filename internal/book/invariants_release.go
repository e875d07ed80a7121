//go:build !bookdebug

package book

const debugInvariants = false
