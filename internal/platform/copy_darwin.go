//go:build darwin

package platform

// CopyFile copies with pread/pwrite. The destination is always an open temp
// file, so clonefile(2), which must create its own destination, never applies.
func CopyFile(params CopyFileParams) (CopyResult, error) {
	preallocate(params.DstFd, copyLength(params))
	return CopyReadWrite(params)
}
