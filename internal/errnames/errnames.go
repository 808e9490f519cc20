/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package errnames holds the exception/class-name string constants the
// emulator's synthetic runtime and VMException formatting refer to.
package errnames

const (
	ClassNotFoundException     = "Ljava/lang/ClassNotFoundException;"
	NoSuchMethodError          = "Ljava/lang/NoSuchMethodError;"
	NoSuchFieldError           = "Ljava/lang/NoSuchFieldError;"
	VerifyError                = "Ljava/lang/VerifyError;"
	ArrayIndexOutOfBoundsError = "Ljava/lang/ArrayIndexOutOfBoundsException;"
	StringClassName            = "Ljava/lang/String;"
	ByteArrayClassName         = "[B"
)
