package content

import "fmt"

// The shims below are output artifacts: opaque JavaScript text emitted
// into rewritten pages, not patterns this codebase uses itself.

// constantsScript exposes the proxy coordinates to injected scripts.
func constantsScript(sessionID, proxyBase, target string) string {
	return fmt.Sprintf(
		`window.__WEBVEIL__={sessionId:%q,proxyBase:%q,target:%q};`,
		sessionID, proxyBase, target,
	)
}

// webSocketShim replaces the WebSocket constructor with one that routes
// through the /ws gateway. The shim adopts the native prototype, so
// `socket instanceof WebSocket` still holds for shimmed sockets.
func webSocketShim(proxyBase string) string {
	return fmt.Sprintf(`(function(){
var Native=window.WebSocket;
if(!Native)return;
function Proxied(url,protocols){
var tunneled=%q+"?url="+encodeURIComponent(url);
return protocols===undefined?new Native(tunneled):new Native(tunneled,protocols);
}
Proxied.prototype=Native.prototype;
Proxied.CONNECTING=Native.CONNECTING;
Proxied.OPEN=Native.OPEN;
Proxied.CLOSING=Native.CLOSING;
Proxied.CLOSED=Native.CLOSED;
window.WebSocket=Proxied;
})();`, proxyBase+"/ws")
}

// storageIsolationShim namespaces localStorage keys with a per-session
// prefix so pages from different proxied origins sharing one browser
// storage partition cannot collide.
func storageIsolationShim(sessionID string) string {
	return fmt.Sprintf(`(function(){
if(!window.localStorage)return;
var p=%q+":";
var native=window.localStorage;
function mine(){var ks=[];for(var i=0;i<native.length;i++){var k=native.key(i);if(k.indexOf(p)===0)ks.push(k);}return ks;}
var shim={
setItem:function(k,v){return native.setItem(p+k,v);},
getItem:function(k){return native.getItem(p+k);},
removeItem:function(k){return native.removeItem(p+k);},
clear:function(){mine().forEach(function(k){native.removeItem(k);});},
key:function(i){var k=mine()[i];return k===undefined?null:k.slice(p.length);}
};
Object.defineProperty(shim,"length",{get:function(){return mine().length;}});
try{Object.defineProperty(window,"localStorage",{get:function(){return shim;}});}catch(e){}
})();`, sessionID)
}
