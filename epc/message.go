package epc

import "fmt"

// MessageKind names the five EPC message shapes.
type MessageKind int

const (
	KindCall MessageKind = iota
	KindReturn
	KindReturnError
	KindEpcError
	KindMethodsQuery
)

func (k MessageKind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindReturn:
		return "return"
	case KindReturnError:
		return "return-error"
	case KindEpcError:
		return "epc-error"
	case KindMethodsQuery:
		return "methods"
	}
	return "unknown"
}

// MarshalJSON renders MessageKind as its String() form, used when a
// CallEvent carrying one travels over the watch feed.
func (k MessageKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (k *MessageKind) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"call"`:
		*k = KindCall
	case `"return"`:
		*k = KindReturn
	case `"return-error"`:
		*k = KindReturnError
	case `"epc-error"`:
		*k = KindEpcError
	case `"methods"`:
		*k = KindMethodsQuery
	default:
		return fmt.Errorf("invalid MessageKind %s", b)
	}
	return nil
}

// Message is the sum type of everything that can travel on the EPC
// wire, each variant carrying the UID that correlates it to a call.
type Message struct {
	Kind MessageKind
	UID  uint64

	// Call
	Method string
	Args   Value

	// Return
	Result Value

	// ReturnError / EpcError
	ErrMessage string
}

// CallMessage builds a Call message.
func CallMessage(uid uint64, method string, args Value) Message {
	return Message{Kind: KindCall, UID: uid, Method: method, Args: args}
}

// ReturnMessage builds a Return message.
func ReturnMessage(uid uint64, result Value) Message {
	return Message{Kind: KindReturn, UID: uid, Result: result}
}

// ReturnErrorMessage builds a ReturnError message.
func ReturnErrorMessage(uid uint64, msg string) Message {
	return Message{Kind: KindReturnError, UID: uid, ErrMessage: msg}
}

// EpcErrorMessage builds an EpcError message.
func EpcErrorMessage(uid uint64, msg string) Message {
	return Message{Kind: KindEpcError, UID: uid, ErrMessage: msg}
}

// MethodsQueryMessage builds a MethodsQuery message.
func MethodsQueryMessage(uid uint64) Message {
	return Message{Kind: KindMethodsQuery, UID: uid}
}

// EncodeMessage renders m to its wire payload: a top-level list whose
// head symbol names the kind, per the wire-shape table in the
// specification. Arity is always exactly what each kind requires.
func EncodeMessage(m Message) ([]byte, error) {
	var v Value
	switch m.Kind {
	case KindCall:
		v = List(Symbol("call"), Int(int64(m.UID)), Symbol(m.Method), m.Args)
	case KindReturn:
		v = List(Symbol("return"), Int(int64(m.UID)), m.Result)
	case KindReturnError:
		v = List(Symbol("return-error"), Int(int64(m.UID)), String(m.ErrMessage))
	case KindEpcError:
		v = List(Symbol("epc-error"), Int(int64(m.UID)), String(m.ErrMessage))
	case KindMethodsQuery:
		v = List(Symbol("methods"), Int(int64(m.UID)))
	default:
		return nil, newErr(ErrInvalidMessageFormat, fmt.Sprintf("unknown message kind %d", m.Kind))
	}
	return EmitSexp(v)
}

// DecodeMessage parses payload as a top-level EPC message list. Arity
// is checked strictly: extra or missing elements are
// InvalidMessageFormat, as is a UID that doesn't parse as a
// non-negative integer.
func DecodeMessage(payload []byte) (Message, error) {
	v, err := ParseSexp(payload)
	if err != nil {
		return Message{}, err
	}
	if v.Kind() != KindList || v.Len() == 0 {
		return Message{}, newErr(ErrInvalidMessageFormat, "message is not a non-empty list")
	}

	head := v.At(0)
	if head.Kind() != KindSymbol {
		return Message{}, newErr(ErrInvalidMessageFormat, "message head is not a symbol")
	}

	switch head.Text() {
	case "call":
		if v.Len() != 4 {
			return Message{}, arityErr("call", 4, v.Len())
		}
		uid, err := uidOf(v.At(1))
		if err != nil {
			return Message{}, err
		}
		method := v.At(2)
		if method.Kind() != KindSymbol {
			return Message{}, newErr(ErrInvalidMessageFormat, "call method is not a symbol")
		}
		return CallMessage(uid, method.Text(), v.At(3)), nil

	case "return":
		if v.Len() != 3 {
			return Message{}, arityErr("return", 3, v.Len())
		}
		uid, err := uidOf(v.At(1))
		if err != nil {
			return Message{}, err
		}
		return ReturnMessage(uid, v.At(2)), nil

	case "return-error":
		if v.Len() != 3 {
			return Message{}, arityErr("return-error", 3, v.Len())
		}
		uid, err := uidOf(v.At(1))
		if err != nil {
			return Message{}, err
		}
		msg, err := stringOf(v.At(2), "return-error message")
		if err != nil {
			return Message{}, err
		}
		return ReturnErrorMessage(uid, msg), nil

	case "epc-error":
		if v.Len() != 3 {
			return Message{}, arityErr("epc-error", 3, v.Len())
		}
		uid, err := uidOf(v.At(1))
		if err != nil {
			return Message{}, err
		}
		msg, err := stringOf(v.At(2), "epc-error message")
		if err != nil {
			return Message{}, err
		}
		return EpcErrorMessage(uid, msg), nil

	case "methods":
		if v.Len() != 2 {
			return Message{}, arityErr("methods", 2, v.Len())
		}
		uid, err := uidOf(v.At(1))
		if err != nil {
			return Message{}, err
		}
		return MethodsQueryMessage(uid), nil
	}

	return Message{}, newErr(ErrInvalidMessageFormat, fmt.Sprintf("unknown message kind %q", head.Text()))
}

func arityErr(kind string, want, got int) error {
	return newErr(ErrInvalidMessageFormat, fmt.Sprintf("%s: expected %d elements, got %d", kind, want, got))
}

func uidOf(v Value) (uint64, error) {
	if v.Kind() != KindInt || v.IntValue() < 0 {
		return 0, newErr(ErrInvalidMessageFormat, "uid is not a non-negative integer")
	}
	return uint64(v.IntValue()), nil
}

func stringOf(v Value, what string) (string, error) {
	if v.Kind() != KindString {
		return "", newErr(ErrInvalidMessageFormat, what+" is not a string")
	}
	return v.Text(), nil
}
