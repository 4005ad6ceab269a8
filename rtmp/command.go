package rtmp

// Command is a decoded AMF0/AMF3 command message (spec.md §4.9): a
// name, a transaction id, the conventional command/info object, and any
// further positional arguments specific to that command (streamName,
// start/duration for play, and so on).
//
// The teacher's own command type was not present in the retrieval pack
// this engine is grounded on, so this shape is reconstructed from its
// call sites (cmd.GetArg("streamName"), cmd.GetArg("transId"), ...) and
// expressed the idiomatic way: typed accessors instead of a
// string-keyed lookup.
type Command struct {
	Name          string
	TransactionID float64
	CommandObject AMF0Value
	Args          []AMF0Value
}

// Arg returns the i'th positional argument after CommandObject, or an
// undefined value if there aren't that many. Returns a pointer, like
// GetProperty, so callers can chain accessor calls directly.
func (c *Command) Arg(i int) *AMF0Value {
	if i < 0 || i >= len(c.Args) {
		undef := createAMF0Value(amf0TypeUndefined)
		return &undef
	}
	return &c.Args[i]
}

// DecodeCommand parses a Command_AMF0/AMF3 payload (the AMF3 leading
// marker byte, if any, is the caller's responsibility to strip first).
func DecodeCommand(payload []byte) Command {
	return decodeCommand(payload)
}

// decodeCommand parses a Command_AMF0 payload (spec.md §4.9): name,
// transaction id, command object, then zero or more further arguments.
func decodeCommand(payload []byte) Command {
	s := NewAMFDecodingStream(payload)

	cmd := Command{}
	if !s.IsEnded() {
		name := s.ReadOne()
		cmd.Name = name.GetString()
	}
	if !s.IsEnded() {
		transID := s.ReadOne()
		cmd.TransactionID = transID.GetDouble()
	}
	if !s.IsEnded() {
		cmd.CommandObject = s.ReadOne()
	}
	for !s.IsEnded() {
		cmd.Args = append(cmd.Args, s.ReadOne())
	}

	return cmd
}

// encodeCommand serializes name/transId/cmdObj/args into a
// Command_AMF0 payload (the reverse of decodeCommand, and also how
// server-originated commands like onStatus are built).
func encodeCommand(name string, transID float64, cmdObj AMF0Value, args ...AMF0Value) []byte {
	var out []byte
	out = append(out, amf0EncodeOne(NewAMF0String(name))...)
	out = append(out, amf0EncodeOne(NewAMF0Number(transID))...)
	out = append(out, amf0EncodeOne(cmdObj)...)
	for _, a := range args {
		out = append(out, amf0EncodeOne(a)...)
	}
	return out
}

// Well-known onStatus/_result/_error info object keys (spec.md §4.9).
func newStatusInfo(level, code, description string) AMF0Value {
	props := map[string]*AMF0Value{}
	l := NewAMF0String(level)
	c := NewAMF0String(code)
	props["level"] = &l
	props["code"] = &c
	if description != "" {
		d := NewAMF0String(description)
		props["description"] = &d
	}
	return NewAMF0Object(props)
}

// EncodeOnStatus builds the onStatus command invoked on a stream's
// message-id after play/publish/pause state changes (spec.md §4.9).
func EncodeOnStatus(level, code, description string) []byte {
	return encodeCommand("onStatus", 0, NewAMF0Null(), newStatusInfo(level, code, description))
}

// EncodeConnectResult builds the _result response to a connect command
// (spec.md §4.9), echoing the client's chosen AMF encoding back when it
// declared one explicitly.
func EncodeConnectResult(transID float64, objectEncoding uint32, echoObjectEncoding bool) []byte {
	cmdObjProps := map[string]*AMF0Value{}
	fmsVer := NewAMF0String("FMS/3,0,1,123")
	capabilities := NewAMF0Number(31)
	cmdObjProps["fmsVer"] = &fmsVer
	cmdObjProps["capabilities"] = &capabilities
	cmdObj := NewAMF0Object(cmdObjProps)

	infoProps := map[string]*AMF0Value{}
	level := NewAMF0String("status")
	code := NewAMF0String("NetConnection.Connect.Success")
	desc := NewAMF0String("Connection succeeded.")
	infoProps["level"] = &level
	infoProps["code"] = &code
	infoProps["description"] = &desc
	if echoObjectEncoding {
		oe := NewAMF0Number(float64(objectEncoding))
		infoProps["objectEncoding"] = &oe
	} else {
		undef := createAMF0Value(amf0TypeUndefined)
		infoProps["objectEncoding"] = &undef
	}
	info := NewAMF0Object(infoProps)

	return encodeCommand("_result", transID, cmdObj, info)
}

// EncodeCreateStreamResult builds the _result response to createStream,
// carrying the newly allocated message-stream-id.
func EncodeCreateStreamResult(transID float64, streamID uint32) []byte {
	return encodeCommand("_result", transID, NewAMF0Null(), NewAMF0Number(float64(streamID)))
}

// EncodeSampleAccess builds the |RtmpSampleAccess data message sent
// right after a play starts (spec.md §4.9's supplemented feature set).
func EncodeSampleAccess() []byte {
	return EncodeDataMessage("|RtmpSampleAccess", NewAMF0Bool(false), NewAMF0Bool(false))
}

// DataMessage is a decoded Data_AMF0/AMF3 message (spec.md §4.9): a
// string tag ("@setDataFrame", "onMetaData", "|RtmpSampleAccess", ...)
// followed by zero or more values. Unlike Command, it carries no
// transaction id or command object — onStatus-style messages are
// Command messages; @setDataFrame/onMetaData are Data messages, and
// the two payload shapes are not interchangeable.
type DataMessage struct {
	Tag    string
	Values []AMF0Value
}

// Value returns the i'th value, or an undefined value if there aren't
// that many. Returns a pointer, like GetProperty, so callers can chain
// accessor calls directly.
func (d *DataMessage) Value(i int) *AMF0Value {
	if i < 0 || i >= len(d.Values) {
		undef := createAMF0Value(amf0TypeUndefined)
		return &undef
	}
	return &d.Values[i]
}

// DecodeDataMessage parses a Data_AMF0 payload (the AMF3 leading marker
// byte, if any, is the caller's responsibility to strip first).
func DecodeDataMessage(payload []byte) DataMessage {
	s := NewAMFDecodingStream(payload)

	msg := DataMessage{}
	if !s.IsEnded() {
		tag := s.ReadOne()
		msg.Tag = tag.GetString()
	}
	for !s.IsEnded() {
		msg.Values = append(msg.Values, s.ReadOne())
	}
	return msg
}

// EncodeDataMessage serializes tag/values into a Data_AMF0 payload.
func EncodeDataMessage(tag string, values ...AMF0Value) []byte {
	out := amf0EncodeOne(NewAMF0String(tag))
	for _, v := range values {
		out = append(out, amf0EncodeOne(v)...)
	}
	return out
}
