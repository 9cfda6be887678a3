package dex

import "strings"

// AccessFlags is an access_flags bit set.
type AccessFlags uint32

const (
	AccPublic               AccessFlags = 0x1
	AccPrivate              AccessFlags = 0x2
	AccProtected            AccessFlags = 0x4
	AccStatic               AccessFlags = 0x8
	AccFinal                AccessFlags = 0x10
	AccSynchronized         AccessFlags = 0x20
	AccVolatile             AccessFlags = 0x40
	AccBridge               AccessFlags = 0x40
	AccTransient            AccessFlags = 0x80
	AccVarargs              AccessFlags = 0x80
	AccNative               AccessFlags = 0x100
	AccInterface            AccessFlags = 0x200
	AccAbstract             AccessFlags = 0x400
	AccStrict               AccessFlags = 0x800
	AccSynthetic            AccessFlags = 0x1000
	AccAnnotation           AccessFlags = 0x2000
	AccEnum                 AccessFlags = 0x4000
	AccConstructor          AccessFlags = 0x10000
	AccDeclaredSynchronized AccessFlags = 0x20000
)

type flagName struct {
	bit  AccessFlags
	name string
}

func flagTable(mid [3]string) []flagName {
	return []flagName{
		{AccPublic, "public"},
		{AccPrivate, "private"},
		{AccProtected, "protected"},
		{AccStatic, "static"},
		{AccFinal, "final"},
		{0x20, mid[0]},
		{0x40, mid[1]},
		{0x80, mid[2]},
		{AccNative, "native"},
		{AccInterface, "interface"},
		{AccAbstract, "abstract"},
		{AccStrict, "strict"},
		{AccSynthetic, "synthetic"},
		{AccAnnotation, "annotation"},
		{AccEnum, "enum"},
		{AccConstructor, "constructor"},
		{AccDeclaredSynchronized, "declared-synchronized"},
	}
}

var (
	// classFlagNames is also used for fields.
	classFlagNames  = flagTable([3]string{"synchronized", "volatile", "transient"})
	methodFlagNames = flagTable([3]string{"synchronized", "bridge", "varargs"})
)

func (f AccessFlags) format(table []flagName) string {
	var names []string
	for _, fn := range table {
		if f&fn.bit != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, " ")
}

// ClassString names the set bits using the class and field vocabulary.
func (f AccessFlags) ClassString() string {
	return f.format(classFlagNames)
}

// MethodString names the set bits using the method vocabulary.
func (f AccessFlags) MethodString() string {
	return f.format(methodFlagNames)
}
