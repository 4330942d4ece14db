//go:build linux

package inputuapi

// Name tables for the selector grammar's symbolic code names (§4.A:
// "key:a" means code=KEY_A). The full input-event-codes.h defines several
// hundred KEY_* codes; evsieve's own name<->code table is itself generated
// by a script (generate_hid_tables.py in the original sources), a
// collaborator this spec treats as out of scope ("the HID usage-table
// generator"). This table covers the codes that appear in practice
// (alphanumerics, common modifiers, navigation, function keys, and the
// mouse/wheel axes) and is meant to be extended the same way the
// generator would extend it: add an entry, not a new lookup mechanism.
// Any code outside this table is still reachable via the numeric %N
// escape the grammar provides for exactly this reason.
var KeyNames = map[string]uint16{
	"esc": KEY_ESC, "1": KEY_1, "2": KEY_2, "3": KEY_3, "4": KEY_4,
	"5": KEY_5, "6": KEY_6, "7": KEY_7, "8": KEY_8, "9": KEY_9, "0": KEY_0,
	"minus": KEY_MINUS, "equal": KEY_EQUAL, "backspace": KEY_BACKSPACE,
	"tab": KEY_TAB, "q": KEY_Q, "w": KEY_W, "e": KEY_E, "r": KEY_R,
	"t": KEY_T, "y": KEY_Y, "u": KEY_U, "i": KEY_I, "o": KEY_O, "p": KEY_P,
	"leftbrace": KEY_LEFTBRACE, "rightbrace": KEY_RIGHTBRACE,
	"enter": KEY_ENTER, "leftctrl": KEY_LEFTCTRL, "a": KEY_A, "s": KEY_S,
	"d": KEY_D, "f": KEY_F, "g": KEY_G, "h": KEY_H, "j": KEY_J, "k": KEY_K,
	"l": KEY_L, "semicolon": KEY_SEMICOLON, "apostrophe": KEY_APOSTROPHE,
	"grave": KEY_GRAVE, "leftshift": KEY_LEFTSHIFT, "backslash": KEY_BACKSLASH,
	"z": KEY_Z, "x": KEY_X, "c": KEY_C, "v": KEY_V, "b": KEY_B, "n": KEY_N,
	"m": KEY_M, "comma": KEY_COMMA, "dot": KEY_DOT, "slash": KEY_SLASH,
	"rightshift": KEY_RIGHTSHIFT, "kpasterisk": KEY_KPASTERISK,
	"leftalt": KEY_LEFTALT, "space": KEY_SPACE, "capslock": KEY_CAPSLOCK,
	"f1": KEY_F1, "f2": KEY_F2, "f3": KEY_F3, "f4": KEY_F4, "f5": KEY_F5,
	"f6": KEY_F6, "f7": KEY_F7, "f8": KEY_F8, "f9": KEY_F9, "f10": KEY_F10,
	"f11": KEY_F11, "f12": KEY_F12,
	"numlock": KEY_NUMLOCK, "scrolllock": KEY_SCROLLLOCK,
	"rightctrl": KEY_RIGHTCTRL, "rightalt": KEY_RIGHTALT,
	"home": KEY_HOME, "up": KEY_UP, "pageup": KEY_PAGEUP,
	"left": KEY_LEFT, "right": KEY_RIGHT, "end": KEY_END,
	"down": KEY_DOWN, "pagedown": KEY_PAGEDOWN, "insert": KEY_INSERT,
	"delete": KEY_DELETE, "leftmeta": KEY_LEFTMETA, "rightmeta": KEY_RIGHTMETA,
	"compose": KEY_COMPOSE, "mute": KEY_MUTE, "volumedown": KEY_VOLUMEDOWN,
	"volumeup": KEY_VOLUMEUP, "power": KEY_POWER, "pause": KEY_PAUSE,
	"playpause": KEY_PLAYPAUSE, "nextsong": KEY_NEXTSONG,
	"previoussong": KEY_PREVIOUSSONG,
}

// BtnNames covers the BTN_* subset of EV_KEY codes, addressed by the
// "btn:" selector prefix.
var BtnNames = map[string]uint16{
	"left": BTN_LEFT, "right": BTN_RIGHT, "middle": BTN_MIDDLE,
	"side": BTN_SIDE, "extra": BTN_EXTRA, "forward": BTN_FORWARD,
	"back": BTN_BACK, "task": BTN_TASK,
}

// RelNames covers EV_REL codes addressed by the "rel:" selector prefix.
var RelNames = map[string]uint16{
	"x": REL_X, "y": REL_Y, "z": REL_Z,
	"hwheel": REL_HWHEEL, "wheel": REL_WHEEL,
}

// AbsNames covers EV_ABS codes addressed by the "abs:" selector prefix.
var AbsNames = map[string]uint16{
	"x": ABS_X, "y": ABS_Y, "z": ABS_Z,
	"rx": ABS_RX, "ry": ABS_RY, "rz": ABS_RZ,
	"hat0x": ABS_HAT0X, "hat0y": ABS_HAT0Y,
}

// TypeNames maps the grammar's type keywords to EV_* values. "btn" is a
// meta-type: it matches EV_KEY like "key" does, but restricts the code
// half of the selector to the BTN_* subrange.
var TypeNames = map[string]uint16{
	"syn": EV_SYN, "key": EV_KEY, "btn": EV_KEY, "rel": EV_REL,
	"abs": EV_ABS, "msc": EV_MSC, "sw": EV_SW, "led": EV_LED,
	"snd": EV_SND, "rep": EV_REP, "ff": EV_FF,
}

// NamesForType returns the code-name table appropriate for looking up
// symbolic codes under the given type keyword ("key", "btn", "rel", ...).
func NamesForType(typeName string) (map[string]uint16, bool) {
	switch typeName {
	case "key":
		return KeyNames, true
	case "btn":
		return BtnNames, true
	case "rel":
		return RelNames, true
	case "abs":
		return AbsNames, true
	default:
		return nil, false
	}
}

// IsBtnCode reports whether code falls in the BTN_* subrange of EV_KEY,
// used to implement the "btn" type-only selector (matches any code of
// EV_KEY restricted to buttons).
func IsBtnCode(code uint16) bool {
	return code >= BTN_MISC && code <= BTN_GEAR_UP || code >= BTN_TRIGGER_HAPPY && code <= BTN_TRIGGER_HAPPY40
}
