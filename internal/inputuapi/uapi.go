//go:build linux

package inputuapi

import "github.com/KarsMulder/evsieve/internal/ioctl"

// RawEvent mirrors struct input_event as delivered by the kernel on
// reads from an evdev node and accepted on writes to a uinput node.
type RawEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// ID identifies an input device by its bus type, vendor ID, product ID,
// and version. Mirrors struct input_id.
type ID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// AbsInfo holds the parameters of an absolute input axis, mirroring
// struct input_absinfo.
type AbsInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// UinputUserDev mirrors struct uinput_user_dev, the legacy all-in-one
// uinput device descriptor used to set name, id, and absinfo ranges
// before UI_DEV_CREATE.
type UinputUserDev struct {
	Name       [80]byte
	ID         ID
	EffectsMax uint32
	AbsMax     [ABS_CNT]int32
	AbsMin     [ABS_CNT]int32
	AbsFuzz    [ABS_CNT]int32
	AbsFlat    [ABS_CNT]int32
}

// UinputSetup mirrors struct uinput_setup, the modern counterpart to
// UinputUserDev used with UI_DEV_SETUP.
type UinputSetup struct {
	ID      ID
	Name    [80]byte
	FFEfNum uint32
}

// UinputAbsSetup mirrors struct uinput_abs_setup, used with
// UI_ABS_SETUP to configure one absolute axis at a time.
type UinputAbsSetup struct {
	Code uint16
	_    [2]byte
	Abs  AbsInfo
}

const (
	EV_VERSION = 0x010001

	ID_BUS     = 0
	ID_VENDOR  = 1
	ID_PRODUCT = 2
	ID_VERSION = 3

	BUS_USB     = 0x03
	BUS_VIRTUAL = 0x06

	UINPUT_MAX_NAME_SIZE = 80
)

var (
	// EVIOCGVERSION gets the evdev driver version.
	EVIOCGVERSION = ioctl.IOR('E', 0x01, int32(0))

	// EVIOCGID retrieves the device identifier.
	EVIOCGID = ioctl.IOR('E', 0x02, ID{})

	// EVIOCGREP gets keyboard auto-repeat settings: [delay_ms, period_ms].
	EVIOCGREP = ioctl.IOR('E', 0x03, [2]uint32{})

	// EVIOCSREP sets keyboard auto-repeat settings.
	EVIOCSREP = ioctl.IOW('E', 0x03, [2]uint32{})

	// EVIOCGRAB grabs (nonzero) or releases (zero) exclusive access to
	// an evdev node.
	EVIOCGRAB = ioctl.IOW('E', 0x90, int32(0))
)

// EVIOCGNAME returns the request code to read up to length bytes of the
// device's human-readable name.
func EVIOCGNAME(length uint) uint {
	return ioctl.IOC(ioctl.DirRead, 'E', 0x06, length)
}

// EVIOCGPROP returns the request code to read the device's property
// bitmask (INPUT_PROP_*) into a buffer of length bytes.
func EVIOCGPROP(length uint) uint {
	return ioctl.IOC(ioctl.DirRead, 'E', 0x09, length)
}

// EVIOCGBIT returns the request code to read the capability bitmask for
// event type ev (0 == the set of supported EV_* types themselves) into
// a buffer of length bytes.
func EVIOCGBIT(ev, length uint) uint {
	return ioctl.IOC(ioctl.DirRead, 'E', 0x20+ev, length)
}

// EVIOCGABS returns the request code to read AbsInfo for absolute axis
// abs.
func EVIOCGABS(abs uint) uint {
	return ioctl.IOR('E', 0x40+abs, AbsInfo{})
}

// Uinput ioctl request codes (from uapi/linux/uinput.h). The teacher's
// ioctl package only had to cover 'E'-type (evdev) requests; uinput
// reuses the same IOC encoding under the 'U' magic plus a handful of
// bare IO()s that take an int argument by value rather than by pointer.
var (
	// UI_DEV_CREATE instructs the kernel to publish the /dev/input/eventN
	// node for a uinput device configured via UI_DEV_SETUP/UI_SET_*BIT.
	UI_DEV_CREATE = ioctl.IO('U', 1)

	// UI_DEV_DESTROY tears down a uinput device created with
	// UI_DEV_CREATE.
	UI_DEV_DESTROY = ioctl.IO('U', 2)

	// UI_DEV_SETUP sets the device name, id, and ff_effects_max in one
	// call, the modern replacement for writing a UinputUserDev.
	UI_DEV_SETUP = ioctl.IOW('U', 3, UinputSetup{})

	// UI_ABS_SETUP configures a single absolute axis's AbsInfo.
	UI_ABS_SETUP = ioctl.IOW('U', 4, UinputAbsSetup{})

	// UI_SET_EVBIT declares that the device may emit events of a given
	// EV_* type. Its argument is an int passed by value, not a pointer.
	UI_SET_EVBIT = ioctl.IOW('U', 100, int32(0))

	// UI_SET_KEYBIT declares a KEY_*/BTN_* code the device may emit.
	UI_SET_KEYBIT = ioctl.IOW('U', 101, int32(0))

	// UI_SET_RELBIT declares a REL_* code the device may emit.
	UI_SET_RELBIT = ioctl.IOW('U', 102, int32(0))

	// UI_SET_ABSBIT declares an ABS_* code the device may emit.
	UI_SET_ABSBIT = ioctl.IOW('U', 103, int32(0))

	// UI_SET_MSCBIT declares an MSC_* code the device may emit.
	UI_SET_MSCBIT = ioctl.IOW('U', 104, int32(0))

	// UI_SET_LEDBIT declares an LED_* code the device may emit.
	UI_SET_LEDBIT = ioctl.IOW('U', 105, int32(0))

	// UI_SET_SNDBIT declares an SND_* code the device may emit.
	UI_SET_SNDBIT = ioctl.IOW('U', 106, int32(0))

	// UI_SET_SWBIT declares an SW_* code the device may emit.
	UI_SET_SWBIT = ioctl.IOW('U', 109, int32(0))

	// UI_SET_PROPBIT declares an INPUT_PROP_* the device carries.
	UI_SET_PROPBIT = ioctl.IOW('U', 110, int32(0))
)

// UI_GET_SYSNAME returns the request code to read up to length bytes
// of the sysfs name (e.g. "input23") the kernel assigned to the uinput
// device just created with UI_DEV_CREATE. Used to locate the
// /dev/input/eventN node the kernel published, since UI_DEV_CREATE
// itself does not return it.
func UI_GET_SYSNAME(length uint) uint {
	return ioctl.IOC(ioctl.DirRead, 'U', 44, length)
}
